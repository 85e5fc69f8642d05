package main

import "github.com/thankyoucode/livekit-webstream/cmd"

func main() {
	cmd.Execute()
}
