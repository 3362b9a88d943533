// Command medcall is a terminal client for the medcall gateway: it joins
// call rooms, streams recorded audio for transcription and probes WebRTC
// connectivity.
package main

import (
	"github.com/BioHazard786/medcall/cmd/medcall/cmd"
)

func main() {
	cmd.Execute()
}
