package models

// TestData is the opaque bag of named key/value sets handed to the agent for a task.
// The outer key is the test data name, the inner map holds its values.
type TestData map[string]map[string]string

// MergeTestData overlays each layer in order onto a fresh bag.
// Later layers win key by key; earlier layers are never mutated.
func MergeTestData(layers ...TestData) TestData {
	merged := TestData{}
	for _, layer := range layers {
		for name, values := range layer {
			dst, ok := merged[name]
			if !ok {
				dst = make(map[string]string, len(values))
				merged[name] = dst
			}
			for k, v := range values {
				dst[k] = v
			}
		}
	}
	return merged
}

// ResolveTestData turns a payload test data reference into a bag.
// A nil or unknown reference yields an empty bag.
func ResolveTestData(payload *JobPayload, ref *int64) TestData {
	if payload == nil || ref == nil {
		return TestData{}
	}
	td, ok := payload.FindTestData(*ref)
	if !ok {
		return TestData{}
	}
	values := make(map[string]string, len(td.Data))
	for k, v := range td.Data {
		values[k] = v
	}
	return TestData{td.Name: values}
}
