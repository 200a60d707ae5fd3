// Command q3pnode runs one end of a Q3P key-store link: it listens for
// or connects to a peer, negotiates master/slave role and crypto scheme
// over HANDSHAKE, then keeps the Incoming/Outgoing/Application buffers
// topped up from the Common Store via LOAD/LOAD-REQUEST (and answers a
// peer's STORE rounds) while exposing the control surface over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
