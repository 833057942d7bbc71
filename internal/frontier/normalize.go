package frontier

import "github.com/PuerkitoBio/purell"

// fetchFlags only rewrite parts of a URL that no server can observe
const fetchFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveDotSegments

// keyFlags also fold query order and needless escapes so that equivalent
// spellings of one URL share a membership key
const keyFlags = fetchFlags |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagSortQuery

// Normalize returns the URL that is fetched and stored on an Entry. The query
// string keeps its original order.
func Normalize(raw string) (string, error) {
	return purell.NormalizeURLString(raw, fetchFlags)
}

// Key returns the membership key of raw
func Key(raw string) (string, error) {
	return purell.NormalizeURLString(raw, keyFlags)
}
