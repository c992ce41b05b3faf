// main.go - Flicknest Catalog Service entrypoint.
// Starts the catalog HTTP service on port 8095 (default).
package main

import (
	"github.com/flicknest/flicknest/services/catalog"
)

func main() {
	catalog.StartCatalogService()
}
