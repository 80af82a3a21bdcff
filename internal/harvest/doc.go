// Package harvest defines the record types, capability interfaces and error
// taxonomy shared by the fetch, scraper, reconciliation and output stages.
package harvest
