// main.go - Flicknest Playback Service entrypoint.
// Starts the playback HTTP service on port 8091 (default).
package main

import (
	"github.com/flicknest/flicknest/services/playback"
)

func main() {
	playback.StartPlaybackService()
}
