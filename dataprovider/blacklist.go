// File: dataprovider/blacklist.go
package dataprovider

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadBlacklist reads the ticker blacklist file. The file may be either a
// JSON array of tickers or an object mapping ticker to reason; both forms
// are accepted. A missing path yields an empty blacklist.
func LoadBlacklist(path string) (map[string]bool, error) {
	blacklist := make(map[string]bool)
	if path == "" {
		return blacklist, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return blacklist, nil
		}
		return nil, fmt.Errorf("failed to read blacklist file %s: %w", path, err)
	}

	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		for ticker := range asMap {
			blacklist[ticker] = true
		}
		return blacklist, nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err != nil {
		return nil, fmt.Errorf("failed to parse blacklist file %s: %w", path, err)
	}
	for _, ticker := range asList {
		blacklist[ticker] = true
	}
	return blacklist, nil
}
