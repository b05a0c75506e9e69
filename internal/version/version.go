package version

// Version is the current version of joinkit.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.4.0"

// Name is the application name.
const Name = "joinkit"

// Description is a short description of the application.
const Description = "Load DBF and XLSX tables into a queryable store for joining"
