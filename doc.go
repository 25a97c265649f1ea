// Package imagecrawler implements a polite, single-site crawler that
// discovers and catalogs images reachable from a seed page: URL
// canonicalization, robots.txt policy enforcement, a bounded worker pool
// fetching pages over HTTP, HTML extraction of image references and
// outbound links, and a heuristic classifier distinguishing site logos
// from content images.
package imagecrawler
