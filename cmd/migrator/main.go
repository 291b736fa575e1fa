// Command migrator loads column-mapped source records into the target ERP in
// dependency order, resolving each record against existing entities first.
package main

func main() {
	Execute()
}
