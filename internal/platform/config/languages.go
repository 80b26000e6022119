package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tle_judge/internal/domain/model"
)

type languagesFile struct {
	Languages []model.Language `yaml:"languages"`
}

// LoadLanguages reads the language registry from a YAML file.
func LoadLanguages(path string) ([]model.Language, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages file: %w", err)
	}
	return ParseLanguages(data)
}

func ParseLanguages(data []byte) ([]model.Language, error) {
	var f languagesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse languages file: %w", err)
	}
	for i, l := range f.Languages {
		if l.Slug == "" || l.Runtime == "" {
			return nil, fmt.Errorf("language #%d: slug and runtime are required", i+1)
		}
		if l.Version == "" {
			f.Languages[i].Version = "*"
		}
		if l.Name == "" {
			f.Languages[i].Name = l.Slug
		}
	}
	return f.Languages, nil
}

// DefaultLanguages is used when no languages file is configured.
func DefaultLanguages() []model.Language {
	return []model.Language{
		{Slug: "cpp", Name: "C++17", Runtime: "c++", Version: "*", FileName: "main.cpp", IsActive: true},
		{Slug: "c", Name: "C", Runtime: "c", Version: "*", FileName: "main.c", IsActive: true},
		{Slug: "python", Name: "Python 3", Runtime: "python", Version: "3", FileName: "main.py", IsActive: true},
		{Slug: "java", Name: "Java", Runtime: "java", Version: "*", FileName: "Main.java", IsActive: true},
		{Slug: "go", Name: "Go", Runtime: "go", Version: "*", FileName: "main.go", IsActive: false},
	}
}
