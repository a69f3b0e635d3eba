// Package crawler holds the domain types shared by every subsystem of the
// archiver: crawl specifications and job states, pages and media references,
// download outcomes, the session directory layout, the error taxonomy and the
// collaborator interfaces (job service, blob store, publisher, outcome store,
// clock).
package crawler
