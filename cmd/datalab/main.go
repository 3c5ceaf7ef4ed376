// @title Datalab Service API
// @version 1.0
// @description Survey indicator datasets: structural resources, measurements, dataset versions and import tasks.
// @BasePath /
package main

func main() {
	Execute()
}
