package validation

import (
	"testing"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello world"},
		{"  padded  ", "padded"},
		{"keep\nnewlines\tand tabs", "keep\nnewlines\tand tabs"},
		{"strip\x00null\x01bytes", "stripnullbytes"},
		{"bell\x07char", "bellchar"},
	}

	for _, tc := range tests {
		result := NormalizeText(tc.input)
		if result != tc.expected {
			t.Errorf("NormalizeText(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("name", "John"),
		OneOf("mode", "extractive", "extractive", "abstractive", "hybrid"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("name", ""),
		OneOf("mode", "wild", "extractive", "abstractive", "hybrid"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestMinTextLen(t *testing.T) {
	if err := MinTextLen("text", "long enough input", 10)(); err != nil {
		t.Error("Expected no error for text over minimum")
	}
	if err := MinTextLen("text", "short", 10)(); err == nil {
		t.Error("Expected error for text under minimum")
	}
	// Whitespace padding does not count toward the minimum
	if err := MinTextLen("text", "  hi      ", 10)(); err == nil {
		t.Error("Expected error for padded short text")
	}
}

func TestIntRange(t *testing.T) {
	tests := []struct {
		value int
		min   int
		max   int
		valid bool
	}{
		{150, 50, 500, true},
		{50, 50, 500, true},
		{500, 50, 500, true},
		{49, 50, 500, false},
		{501, 50, 500, false},
	}

	for _, tc := range tests {
		err := IntRange("max_length", tc.value, tc.min, tc.max)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("IntRange(%d, %d, %d) valid=%v, want %v", tc.value, tc.min, tc.max, valid, tc.valid)
		}
	}
}

func TestOneOf(t *testing.T) {
	// Empty value passes; Required handles presence
	if err := OneOf("platform", "")(); err != nil {
		t.Error("Expected no error for empty value")
	}
	if err := OneOf("platform", "twitter", "twitter", "linkedin")(); err != nil {
		t.Error("Expected no error for allowed value")
	}
	if err := OneOf("platform", "myspace", "twitter", "linkedin")(); err == nil {
		t.Error("Expected error for disallowed value")
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
