// main.go - Flicknest Auth Service entrypoint.
// Starts the auth HTTP service on port 8090 (default).
package main

import (
	"github.com/flicknest/flicknest/services/auth"
)

func main() {
	auth.StartAuthService()
}
