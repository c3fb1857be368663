package bilibili

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// requiredTemplateKeys must all be present in the upload template file.
var requiredTemplateKeys = []string{"title", "tid", "tag", "source", "cover", "dynamic", "desc"}

// Template is the destination submission template read from the
// configured YAML file. The title may carry a {time} placeholder that is
// replaced with the recording date at upload time.
type Template struct {
	Title   string  `yaml:"title"`
	Tid     int     `yaml:"tid"`
	Tag     TagList `yaml:"tag"`
	Source  string  `yaml:"source"`
	Cover   string  `yaml:"cover"`
	Dynamic string  `yaml:"dynamic"`
	Desc    string  `yaml:"desc"`
}

// TagList accepts a single string or a YAML sequence.
type TagList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TagList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*t = TagList{s}
	case yaml.SequenceNode:
		var items []any
		if err := value.Decode(&items); err != nil {
			return err
		}
		list := make(TagList, 0, len(items))
		for _, item := range items {
			list = append(list, fmt.Sprint(item))
		}
		*t = list
	default:
		return fmt.Errorf("tag must be a string or a sequence")
	}
	return nil
}

// String joins non-blank tags with commas, the form the CLI expects.
func (t TagList) String() string {
	parts := make([]string, 0, len(t))
	for _, tag := range t {
		if strings.TrimSpace(tag) != "" {
			parts = append(parts, tag)
		}
	}
	return strings.Join(parts, ",")
}

// LoadTemplate reads and validates the upload template.
func LoadTemplate(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading upload template: %w", err)
	}

	var keys map[string]any
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("parsing upload template: %w", err)
	}
	var missing []string
	for _, key := range requiredTemplateKeys {
		if _, ok := keys[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("upload template %s is missing keys: %s",
			path, strings.Join(missing, ", "))
	}

	var t Template
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parsing upload template: %w", err)
	}
	return &t, nil
}

// HasTimePlaceholder reports whether the title template will receive the
// recording date.
func (t *Template) HasTimePlaceholder() bool {
	return strings.Contains(t.Title, "{time}")
}

// SubmissionSpec carries the destination metadata for one new work.
type SubmissionSpec struct {
	Title   string
	Tid     int
	Tags    string
	Desc    string
	Source  string
	Cover   string
	Dynamic string
}

// Submission fills a SubmissionSpec for the computed title.
func (t *Template) Submission(title string) SubmissionSpec {
	return SubmissionSpec{
		Title:   title,
		Tid:     t.Tid,
		Tags:    t.Tag.String(),
		Desc:    t.Desc,
		Source:  t.Source,
		Cover:   t.Cover,
		Dynamic: t.Dynamic,
	}
}
