// Command solrupdater projects bibliographic records from a document
// store into a Solr-compatible search index.
package main

func main() {
	Execute()
}
