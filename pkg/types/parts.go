package types

import (
	"encoding/json"
	"fmt"
)

// PartType tags the concrete type of a message part.
const (
	PartTypeText  = "text"
	PartTypeImage = "image"
	PartTypeFile  = "file"
	PartTypeTool  = "tool"
)

// Part represents a component of a message's content.
type Part interface {
	PartType() string
}

// TextPart is plain text content.
type TextPart struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

func (p *TextPart) PartType() string { return PartTypeText }

// ImagePart is inline or referenced image content.
type ImagePart struct {
	Type      string `json:"type"` // always "image"
	URL       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
}

func (p *ImagePart) PartType() string { return PartTypeImage }

// FilePart is an attached file.
type FilePart struct {
	Type      string `json:"type"` // always "file"
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string { return PartTypeFile }

// ToolPart records a tool call and, once executed, its result.
type ToolPart struct {
	Type     string          `json:"type"` // always "tool"
	CallID   string          `json:"callID"`
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input,omitempty"`
	State    string          `json:"state"` // "pending" | "completed" | "rejected" | "error"
	Output   *string         `json:"output,omitempty"`
	Error    *string         `json:"error,omitempty"`
}

func (p *ToolPart) PartType() string { return PartTypeTool }

// UnmarshalPart unmarshals a JSON part into the appropriate type.
func UnmarshalPart(data []byte) (Part, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}

	var part Part
	switch tag.Type {
	case PartTypeText:
		part = &TextPart{}
	case PartTypeImage:
		part = &ImagePart{}
	case PartTypeFile:
		part = &FilePart{}
	case PartTypeTool:
		part = &ToolPart{}
	default:
		return nil, fmt.Errorf("unknown part type: %q", tag.Type)
	}

	if err := json.Unmarshal(data, part); err != nil {
		return nil, err
	}
	return part, nil
}
