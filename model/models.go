package model

// All returns every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Track{},
		&QualityPreset{},
		&AvailableQuality{},
		&Art{},
		&MetadataField{},
		&MetadataValue{},
		&WorkItem{},
	}
}
