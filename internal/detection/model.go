package detection

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrModelLoad is returned when an anomaly model cannot be loaded.
var ErrModelLoad = errors.New("anomaly model load failed")

// AnomalyModel scores message text. Predict returns true for outliers;
// DecisionScore is negative for outliers, following the isolation forest convention.
type AnomalyModel interface {
	Predict(text string) (bool, error)
	DecisionScore(text string) (float64, error)
}

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// TokenModel is a bag-of-words outlier model: every known token carries a
// weight and the decision score is offset minus the mean weight of the
// message tokens. Unknown tokens weigh UnknownWeight.
type TokenModel struct {
	Name          string             `yaml:"name"`
	Offset        float64            `yaml:"offset"`
	UnknownWeight float64            `yaml:"unknown_weight"`
	Vocabulary    map[string]float64 `yaml:"vocabulary"`
}

// LoadTokenModel reads a TokenModel from a YAML file.
func LoadTokenModel(path string) (*TokenModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrModelLoad, path, err)
	}

	var m TokenModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrModelLoad, path, err)
	}
	if len(m.Vocabulary) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty vocabulary", ErrModelLoad, path)
	}
	if m.Name == "" {
		m.Name = path
	}

	normalized := make(map[string]float64, len(m.Vocabulary))
	for token, weight := range m.Vocabulary {
		normalized[strings.ToLower(token)] = weight
	}
	m.Vocabulary = normalized

	return &m, nil
}

func (m *TokenModel) DecisionScore(text string) (float64, error) {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return m.Offset, nil
	}

	var sum float64
	for _, tok := range tokens {
		if w, ok := m.Vocabulary[tok]; ok {
			sum += w
		} else {
			sum += m.UnknownWeight
		}
	}
	return m.Offset - sum/float64(len(tokens)), nil
}

func (m *TokenModel) Predict(text string) (bool, error) {
	score, err := m.DecisionScore(text)
	if err != nil {
		return false, err
	}
	return score < 0, nil
}
