// Command relayclient drives a translation relay from the terminal: it
// streams WAV files or typed text into a session and tails the utterance
// topic.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
