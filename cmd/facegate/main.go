// Command facegate trains a face gallery, runs live access recognition and
// reports on the recorded access history.
package main

func main() {
	Execute()
}
