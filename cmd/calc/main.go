// Command calc evaluates spreadsheet workbooks and replays edit scripts
// with the formula engine.
package main

import "os"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
