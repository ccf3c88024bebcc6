// Command nexdigi runs the backbone router daemon described by spec §2:
// a process that bridges an RF/AX.25 neighborhood and a TCP/TLS Internet
// mesh, routing DATA packets between them by messageId, not by session.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
