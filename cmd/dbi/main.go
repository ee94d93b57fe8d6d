// Command dbi runs queries through the dbi dispatch layer and prints the
// shaped results as YAML.
package main

func main() {
	New().Execute()
}
