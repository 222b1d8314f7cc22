package rules

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// Overrides lists concepts and clusters whose occurrences are accepted
// without value evidence. Ids are stored upper-cased.
type Overrides struct {
	Concepts map[string]struct{}
	Clusters map[string]struct{}
}

// Exempt reports whether conceptID or clusterID is listed.
func (o Overrides) Exempt(conceptID, clusterID string) bool {
	if _, ok := o.Concepts[strings.ToUpper(conceptID)]; ok {
		return true
	}
	if clusterID == "" {
		return false
	}
	_, ok := o.Clusters[strings.ToUpper(clusterID)]
	return ok
}

// Len returns the total number of listed ids.
func (o Overrides) Len() int {
	return len(o.Concepts) + len(o.Clusters)
}

type overrideFile struct {
	ByKeyword []map[string]interface{} `yaml:"ft_value_without_hint_by_keyword"`
	ByCluster []map[string]interface{} `yaml:"ft_value_without_hint_by_cluster"`
}

// LoadOverrides parses the override YAML. Entries without an id are skipped.
// Unparsable YAML is returned as an error; callers treat it as "no overrides".
func LoadOverrides(r io.Reader) (Overrides, error) {
	out := Overrides{Concepts: map[string]struct{}{}, Clusters: map[string]struct{}{}}

	var file overrideFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return out, nil
		}
		return out, apperrors.Wrap(err, apperrors.ErrCodeRulesMalformed, "decode override file")
	}
	collectIDs(file.ByKeyword, out.Concepts)
	collectIDs(file.ByCluster, out.Clusters)
	return out, nil
}

func collectIDs(entries []map[string]interface{}, into map[string]struct{}) {
	for _, e := range entries {
		raw, ok := e["id"]
		if !ok || raw == nil {
			continue
		}
		id := strings.ToUpper(strings.TrimSpace(fmt.Sprint(raw)))
		if id != "" {
			into[id] = struct{}{}
		}
	}
}
