package rag

// Weights are the heuristic constants of rewrite validation and of the
// Stage 2 confidence recombination. The bonuses reward observable proxies
// for quality (length discipline, structure, attribution, grounding in the
// sources); the result is not a calibrated probability.
type Weights struct {
	MinLength        int
	MaxLength        int
	KeyTermMissRatio float64
	RepetitionRatio  float64

	LengthRatioMin   float64
	LengthRatioMax   float64
	ExpansionBonus   float64
	ExpansionPenalty float64
	StructureBonus   float64
	AttributionBonus float64

	LongAnswerLength      int
	LongAnswerBonus       float64
	QualityStructureBonus float64
	ProfessionalBonus     float64
	SourceMentionBonus    float64
	SourceMentionCap      float64
	SourceMentionsLimit   int
}

func DefaultWeights() Weights {
	return Weights{
		MinLength:             30,
		MaxLength:             600,
		KeyTermMissRatio:      0.7,
		RepetitionRatio:       0.3,
		LengthRatioMin:        1.2,
		LengthRatioMax:        2.0,
		ExpansionBonus:        0.1,
		ExpansionPenalty:      0.05,
		StructureBonus:        0.05,
		AttributionBonus:      0.05,
		LongAnswerLength:      200,
		LongAnswerBonus:       0.05,
		QualityStructureBonus: 0.05,
		ProfessionalBonus:     0.05,
		SourceMentionBonus:    0.05,
		SourceMentionCap:      0.15,
		SourceMentionsLimit:   3,
	}
}
