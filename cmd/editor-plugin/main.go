package main

import "editbench/internal/core/editors"

// Serves the reference editor over go-plugin. Point a `plugin` editor's
// command at this binary to exercise process isolation end to end.
func main() {
	editors.ServePlugin(editors.NewReferenceEditor())
}
