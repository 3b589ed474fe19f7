// The shiba command performs common tasks for developing simulators with
// this module, such as scaffolding component packages and browsing the
// databases recorded by simulation runs.
package main

func main() {
	Execute()
}
