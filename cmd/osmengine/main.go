// Command osmengine fetches, caches and reconstructs geometry for
// OpenStreetMap objects retrieved through the Overpass API.
package main

import "github.com/MeKo-Tech/osm-engine/internal/cmd"

func main() {
	cmd.Execute()
}
