// Command card runs the car: camera streaming, telemetry clients, capture and
// the HTTP control surface.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
