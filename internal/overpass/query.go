package overpass

import (
	"fmt"
	"time"
)

// kindKeyword is the Overpass QL statement keyword for each canonical kind prefix.
var kindKeyword = map[byte]string{
	'n': "node",
	'w': "way",
	'r': "rel",
}

// KindKeyword translates a canonical kind letter ('n'/'w'/'r') to its
// Overpass QL statement keyword ("node"/"way"/"rel").
func KindKeyword(letter byte) (string, error) {
	kw, ok := kindKeyword[letter]
	if !ok {
		return "", fmt.Errorf("overpass: unknown kind letter %q", letter)
	}
	return kw, nil
}

// formatQuery wraps a query body in the standard [out:json] envelope used
// for object fetches, requesting full metadata ("out meta").
func formatQuery(timeoutSeconds int, body string) string {
	return fmt.Sprintf("[out:json][timeout:%d];%s;out meta;", timeoutSeconds, body)
}

// AreaFetchQuery builds the query that retrieves every node, way and
// relation belonging to the named area, transitively recursing into
// referenced objects via the repeated ">>;" (spec.md §4.1).
func AreaFetchQuery(area string) string {
	body := fmt.Sprintf(
		`((area["name"="%s"];node(area);area["name"="%s"];way(area);area["name"="%s"];rel(area);>>;);>>;)`,
		area, area, area,
	)
	return formatQuery(900, body)
}

// BatchLookupQuery builds the query that retrieves a batch of numeric ids
// of a single kind, e.g. "node(id:1,2,3)". numericIDs must already be
// homogeneous in kind (the kind prefix stripped); the Dependency Resolver
// is responsible for grouping ids by kind before calling this.
func BatchLookupQuery(kindLetter byte, numericIDs []string) (string, error) {
	kw, err := KindKeyword(kindLetter)
	if err != nil {
		return "", err
	}
	joined := joinIDs(numericIDs)
	return formatQuery(900, fmt.Sprintf("%s(id:%s)", kw, joined)), nil
}

func joinIDs(ids []string) string {
	out := make([]byte, 0, len(ids)*8)
	for i, id := range ids {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, id...)
	}
	return string(out)
}

// DifferentialFetchQuery builds one of the three augmented-diff ("adiff")
// queries used by the Differential Stream, one per object kind, covering
// every change to the area's objects of that kind since "after".
func DifferentialFetchQuery(area string, kindLetter byte, after time.Time) (string, error) {
	kw, err := KindKeyword(kindLetter)
	if err != nil {
		return "", err
	}
	body := fmt.Sprintf(`((area["name"="%s"];%s(area);>>;);>>;)`, area, kw)
	return fmt.Sprintf(
		`[out:xml][timeout:900][adiff:"%s"];%s;out meta;`,
		after.UTC().Format(time.RFC3339), body,
	), nil
}
