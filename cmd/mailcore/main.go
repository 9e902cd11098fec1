// Command mailcore validates mail accounts, mirrors their folders into a
// local SQLite store and synchronises messages over IMAP.
package main

import (
	"fmt"
	"os"
)

func main() {
	a := &app{out: os.Stdout}
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
