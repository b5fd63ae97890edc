package resume

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the structured document stored in the resume Content (JSONB)
// column. It mirrors the shape the editing client submits: the whole document
// is replaced on every save, so every section is always present after
// Normalize.
//
// Title and Public are also written to the resumes.title and
// resumes.is_public columns on every save. The columns drive listing and the
// public-read gate; the copies here are what the editor renders. Any new
// write path must update both.
type Content struct {
	Title               string       `json:"title"`
	PersonalInfo        PersonalInfo `json:"personal_info"`
	ProfessionalSummary string       `json:"professional_summary"`
	Experience          []Experience `json:"experience"`
	Education           []Education  `json:"education"`
	Project             []Project    `json:"project"`
	Skills              []string     `json:"skills"`
	Template            string       `json:"template"`
	AccentColor         string       `json:"accent_color"`
	Public              bool         `json:"public"`
}

// PersonalInfo holds the contact block. Image is the storage object key of the
// profile photo, not a URL; responses carry a presigned URL alongside it.
type PersonalInfo struct {
	FullName   string `json:"full_name"`
	Profession string `json:"profession"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Location   string `json:"location"`
	Website    string `json:"website"`
	LinkedIn   string `json:"linkedin"`
	Image      string `json:"image"`
}

// Experience is one work history entry. End date is ignored while IsCurrent is set.
type Experience struct {
	Company     string `json:"company"`
	Position    string `json:"position"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	IsCurrent   bool   `json:"is_current"`
	Description string `json:"description"`
}

// Education is one education entry.
type Education struct {
	Institution    string `json:"institution"`
	Degree         string `json:"degree"`
	Field          string `json:"field"`
	GraduationDate string `json:"graduation_date"`
	GPA            string `json:"gpa"`
}

// Project is one project entry.
type Project struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
}

const (
	DefaultAccentColor = "#3B82F6"
)

// Default returns an empty, normalized document with the given title.
func Default(title string) Content {
	c := Content{Title: title}
	c.Normalize()
	return c
}

// Normalize fills nil list sections, trims the title and falls back to the
// default template and accent color. List order is preserved as submitted;
// it is the display order.
func (c *Content) Normalize() {
	c.Title = strings.TrimSpace(c.Title)
	if c.Experience == nil {
		c.Experience = []Experience{}
	}
	if c.Education == nil {
		c.Education = []Education{}
	}
	if c.Project == nil {
		c.Project = []Project{}
	}
	if c.Skills == nil {
		c.Skills = []string{}
	}
	if strings.TrimSpace(c.Template) == "" {
		c.Template = DefaultTemplate
	}
	if strings.TrimSpace(c.AccentColor) == "" {
		c.AccentColor = DefaultAccentColor
	}
}

// Validate reports whether the document can be persisted.
func (c *Content) Validate() error {
	if !IsValidTemplate(c.Template) {
		return fmt.Errorf("unknown template %q", c.Template)
	}
	return nil
}

// Parse decodes a submitted document and normalizes it.
func Parse(data []byte) (Content, error) {
	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}, fmt.Errorf("decode resume document: %w", err)
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return Content{}, err
	}
	return c, nil
}

// Marshal encodes the document for the JSONB column.
func (c Content) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode resume document: %w", err)
	}
	return data, nil
}
