package rag

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/unicode/norm"
)

// Topic is a keyword family recognised in questions.
type Topic struct {
	Name     string   `toml:"name"`
	Keywords []string `toml:"keywords"`
	// Expanded keywords only count when scoring sentences.
	Expanded        []string `toml:"expanded"`
	DefinitionTitle string   `toml:"definition_title"`
	Conclusion      string   `toml:"conclusion"`
}

// Style selects the template layout. Sources is how many results it uses.
type Style struct {
	Name     string   `toml:"name"`
	Keywords []string `toml:"keywords"`
	Sources  int      `toml:"sources"`
}

// QuestionType tailors the rewrite instruction of the enhancer.
type QuestionType struct {
	Name        string   `toml:"name"`
	Keywords    []string `toml:"keywords"`
	Instruction string   `toml:"instruction"`
}

// Lexicon is the keyword data behind every classification in the pipeline.
// Lists are ordered; the first match wins.
type Lexicon struct {
	Topics          []Topic  `toml:"topics"`
	FallbackTopic   Topic    `toml:"fallback_topic"`
	GenericKeywords []string `toml:"generic_keywords"`

	Styles              []Style `toml:"styles"`
	DefaultStyle        string  `toml:"default_style"`
	DefaultStyleSources int     `toml:"default_style_sources"`

	DefinitionMarkers []string `toml:"definition_markers"`
	ReferenceMarkers  []string `toml:"reference_markers"`

	QuestionTypes       []QuestionType `toml:"question_types"`
	DefaultQuestionType QuestionType   `toml:"default_question_type"`

	StopWords             []string `toml:"stop_words"`
	LLMFailurePhrases     []string `toml:"llm_failure_phrases"`
	RewriteFailurePhrases []string `toml:"rewrite_failure_phrases"`
	StructureMarkers      []string `toml:"structure_markers"`
	AttributionMarkers    []string `toml:"attribution_markers"`
	ProfessionalPhrases   []string `toml:"professional_phrases"`
}

// LoadLexicon reads a lexicon file. Sections missing from the file keep the
// built-in values.
func LoadLexicon(path string) (*Lexicon, error) {
	def := DefaultLexicon()
	if path == "" {
		return def, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat lexicon file failed: %w", err)
	}
	var lex Lexicon
	if _, err := toml.DecodeFile(path, &lex); err != nil {
		return nil, fmt.Errorf("decode lexicon file failed: %w", err)
	}
	lex.fillFrom(def)
	lex.fold()
	return &lex, nil
}

func (l *Lexicon) fillFrom(def *Lexicon) {
	if len(l.Topics) == 0 {
		l.Topics = def.Topics
	}
	if l.FallbackTopic.Name == "" {
		l.FallbackTopic = def.FallbackTopic
	}
	if len(l.GenericKeywords) == 0 {
		l.GenericKeywords = def.GenericKeywords
	}
	if len(l.Styles) == 0 {
		l.Styles = def.Styles
	}
	if l.DefaultStyle == "" {
		l.DefaultStyle = def.DefaultStyle
	}
	if l.DefaultStyleSources <= 0 {
		l.DefaultStyleSources = def.DefaultStyleSources
	}
	if len(l.DefinitionMarkers) == 0 {
		l.DefinitionMarkers = def.DefinitionMarkers
	}
	if len(l.ReferenceMarkers) == 0 {
		l.ReferenceMarkers = def.ReferenceMarkers
	}
	if len(l.QuestionTypes) == 0 {
		l.QuestionTypes = def.QuestionTypes
	}
	if l.DefaultQuestionType.Name == "" {
		l.DefaultQuestionType = def.DefaultQuestionType
	}
	if len(l.StopWords) == 0 {
		l.StopWords = def.StopWords
	}
	if len(l.LLMFailurePhrases) == 0 {
		l.LLMFailurePhrases = def.LLMFailurePhrases
	}
	if len(l.RewriteFailurePhrases) == 0 {
		l.RewriteFailurePhrases = def.RewriteFailurePhrases
	}
	if len(l.StructureMarkers) == 0 {
		l.StructureMarkers = def.StructureMarkers
	}
	if len(l.AttributionMarkers) == 0 {
		l.AttributionMarkers = def.AttributionMarkers
	}
	if len(l.ProfessionalPhrases) == 0 {
		l.ProfessionalPhrases = def.ProfessionalPhrases
	}
}

// fold brings operator-supplied lists into the form questions are matched
// in. Structure markers are matched against the raw rewrite, so they only
// get NFC.
func (l *Lexicon) fold() {
	for i := range l.Topics {
		l.Topics[i].Keywords = foldAll(l.Topics[i].Keywords)
		l.Topics[i].Expanded = foldAll(l.Topics[i].Expanded)
	}
	l.FallbackTopic.Keywords = foldAll(l.FallbackTopic.Keywords)
	l.FallbackTopic.Expanded = foldAll(l.FallbackTopic.Expanded)
	l.GenericKeywords = foldAll(l.GenericKeywords)
	for i := range l.Styles {
		l.Styles[i].Keywords = foldAll(l.Styles[i].Keywords)
	}
	for i := range l.QuestionTypes {
		l.QuestionTypes[i].Keywords = foldAll(l.QuestionTypes[i].Keywords)
	}
	l.DefinitionMarkers = foldAll(l.DefinitionMarkers)
	l.ReferenceMarkers = foldAll(l.ReferenceMarkers)
	l.StopWords = foldAll(l.StopWords)
	l.LLMFailurePhrases = foldAll(l.LLMFailurePhrases)
	l.RewriteFailurePhrases = foldAll(l.RewriteFailurePhrases)
	l.AttributionMarkers = foldAll(l.AttributionMarkers)
	l.ProfessionalPhrases = foldAll(l.ProfessionalPhrases)

	markers := make([]string, len(l.StructureMarkers))
	for i, m := range l.StructureMarkers {
		markers[i] = norm.NFC.String(m)
	}
	l.StructureMarkers = markers
}

func foldAll(words []string) []string {
	if words == nil {
		return nil
	}
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = fold(w)
	}
	return out
}

// Topic returns the first topic with a keyword contained in the lowered text.
func (l *Lexicon) Topic(lowered string) Topic {
	for _, t := range l.Topics {
		if containsAny(lowered, t.Keywords) {
			return t
		}
	}
	return l.FallbackTopic
}

func (l *Lexicon) Style(lowered string) Style {
	for _, s := range l.Styles {
		if containsAny(lowered, s.Keywords) {
			return s
		}
	}
	return Style{Name: l.DefaultStyle, Sources: l.DefaultStyleSources}
}

func (l *Lexicon) QuestionType(lowered string) QuestionType {
	for _, q := range l.QuestionTypes {
		if containsAny(lowered, q.Keywords) {
			return q
		}
	}
	return l.DefaultQuestionType
}

// ScoringKeywords collects the keywords of every topic the question touches,
// plus the generic ones, without duplicates.
func (l *Lexicon) ScoringKeywords(lowered string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(words []string) {
		for _, w := range words {
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	for _, t := range l.Topics {
		if containsAny(lowered, t.Keywords) {
			add(t.Keywords)
			add(t.Expanded)
		}
	}
	add(l.GenericKeywords)
	return out
}

func (l *Lexicon) stopWordSet() map[string]struct{} {
	set := make(map[string]struct{}, len(l.StopWords))
	for _, w := range l.StopWords {
		set[w] = struct{}{}
	}
	return set
}

func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Topics: []Topic{
			{
				Name:            "tường lửa",
				Keywords:        []string{"tường lửa", "firewall", "waf", "ids", "ips"},
				Expanded:        []string{"kiểm soát truy cập"},
				DefinitionTitle: "Định nghĩa Tường lửa (Firewall)",
				Conclusion:      "Tường lửa là hệ thống bảo mật mạng quan trọng, giúp kiểm soát và lọc lưu lượng mạng, bảo vệ hệ thống khỏi các truy cập trái phép.",
			},
			{
				Name:            "ddos",
				Keywords:        []string{"ddos", "dos", "denial of service", "từ chối dịch vụ"},
				Expanded:        []string{"tấn công phân tán"},
				DefinitionTitle: "Tấn công DDoS là gì",
				Conclusion:      "Tấn công DDoS là một trong những mối đe dọa nghiêm trọng nhất đối với hệ thống mạng, có thể gây gián đoạn dịch vụ và thiệt hại kinh tế lớn.",
			},
			{
				Name:            "malware",
				Keywords:        []string{"malware", "virus", "trojan", "ransomware", "mã độc"},
				Expanded:        []string{"phần mềm độc hại"},
				DefinitionTitle: "Định nghĩa Malware và Mã độc",
				Conclusion:      "Malware là mối đe dọa thường xuyên trong không gian mạng, cần có biện pháp phòng chống đa lớp để bảo vệ hệ thống.",
			},
			{
				Name:            "phishing",
				Keywords:        []string{"phishing", "lừa đảo", "giả mạo"},
				Expanded:        []string{"social engineering"},
				DefinitionTitle: "Tấn công Phishing là gì",
				Conclusion:      "Phishing là hình thức tấn công kỹ thuật xã hội nguy hiểm, cần nâng cao nhận thức người dùng để phòng chống hiệu quả.",
			},
			{
				Name:            "mật khẩu",
				Keywords:        []string{"mật khẩu", "password", "authentication"},
				Expanded:        []string{"xác thực"},
				DefinitionTitle: "Định nghĩa về Mật khẩu và Xác thực",
				Conclusion:      "Mật khẩu mạnh và xác thực đa yếu tố là nền tảng của bảo mật hệ thống thông tin.",
			},
			{
				Name:            "mã hóa",
				Keywords:        []string{"mã hóa", "encryption", "cryptography"},
				Expanded:        []string{"mật mã"},
				DefinitionTitle: "Mã hóa (Encryption) là gì",
				Conclusion:      "Mã hóa là công nghệ cốt lõi để bảo vệ tính bảo mật và toàn vẹn của dữ liệu.",
			},
			{
				Name:            "iso 27001",
				Keywords:        []string{"iso 27001", "iso27001"},
				DefinitionTitle: "Tiêu chuẩn ISO 27001",
				Conclusion:      "ISO 27001 là tiêu chuẩn quốc tế quan trọng cho hệ thống quản lý an toàn thông tin.",
			},
			{
				Name:            "nist",
				Keywords:        []string{"nist", "cybersecurity framework"},
				DefinitionTitle: "NIST Cybersecurity Framework",
				Conclusion:      "NIST Framework cung cấp hướng dẫn toàn diện để quản lý rủi ro cybersecurity.",
			},
			{
				Name:            "an toàn thông tin",
				Keywords:        []string{"an toàn thông tin", "information security", "bảo mật"},
				Expanded:        []string{"cybersecurity"},
				DefinitionTitle: "Định nghĩa An toàn thông tin",
				Conclusion:      "An toàn thông tin là lĩnh vực bảo vệ thông tin và hệ thống thông tin khỏi các mối đe dọa, đảm bảo tính bảo mật (Confidentiality), toàn vẹn (Integrity) và sẵn sàng (Availability) của dữ liệu.",
			},
		},
		FallbackTopic: Topic{
			Name:            "an toàn thông tin",
			DefinitionTitle: "Định nghĩa An toàn thông tin",
			Conclusion:      "Đây là một khía cạnh quan trọng của an toàn thông tin cần được hiểu rõ và triển khai đúng cách.",
		},
		GenericKeywords: []string{"định nghĩa", "khái niệm", "bảo vệ", "security", "rủi ro", "mối đe dọa"},

		Styles: []Style{
			{Name: "definition", Keywords: []string{"là gì", "what is", "định nghĩa", "khái niệm"}, Sources: 3},
			{Name: "regulation", Keywords: []string{"luật", "quy định", "regulation", "law"}, Sources: 4},
			{Name: "standard", Keywords: []string{"iso", "nist", "tiêu chuẩn", "standard"}, Sources: 3},
			{Name: "attack", Keywords: []string{"tấn công", "attack", "hack", "malware", "virus"}, Sources: 3},
		},
		DefaultStyle:        "general",
		DefaultStyleSources: 3,

		DefinitionMarkers: []string{"là", "được định nghĩa", "có nghĩa", "refers to"},
		ReferenceMarkers:  []string{"http", "www", "truy cập", "tham khảo"},

		QuestionTypes: []QuestionType{
			{
				Name:        "definition",
				Keywords:    []string{"là gì", "what is", "định nghĩa", "khái niệm"},
				Instruction: "Mở đầu bằng một câu định nghĩa ngắn gọn, sau đó nêu các đặc điểm chính.",
			},
			{
				Name:        "regulation",
				Keywords:    []string{"luật", "nghị định", "thông tư", "quy định", "điều", "regulation", "law"},
				Instruction: "Nêu rõ văn bản pháp lý và điều khoản liên quan, giữ nguyên tên văn bản.",
			},
			{
				Name:        "standard",
				Keywords:    []string{"iso", "nist", "tcvn", "tiêu chuẩn", "standard", "framework"},
				Instruction: "Nêu tên tiêu chuẩn, phạm vi áp dụng và các yêu cầu hoặc thành phần chính.",
			},
			{
				Name:        "attack",
				Keywords:    []string{"tấn công", "attack", "hack", "mã độc", "malware", "ddos", "phishing"},
				Instruction: "Mô tả cơ chế tấn công, tác hại và các biện pháp phòng chống.",
			},
			{
				Name:        "how-to",
				Keywords:    []string{"làm thế nào", "như thế nào", "cách", "biện pháp", "how to", "how do"},
				Instruction: "Trình bày các bước hoặc biện pháp theo thứ tự, mỗi ý một dòng.",
			},
		},
		DefaultQuestionType: QuestionType{
			Name:        "general",
			Instruction: "Trình bày các ý chính một cách mạch lạc.",
		},

		StopWords: []string{
			"những", "trong", "được", "không", "nhưng", "cũng", "nhiều", "người", "thông", "theo",
			"đến", "hoặc", "nếu", "này", "của", "các", "với", "cho", "như", "khi",
			"that", "this", "with", "from", "which", "have", "there", "their",
		},
		LLMFailurePhrases: []string{"không thể", "thử lại"},
		RewriteFailurePhrases: []string{
			"không thể", "thử lại", "xin lỗi", "tôi không có thông tin", "as an ai", "i cannot",
		},
		StructureMarkers:   []string{"•", "\n- ", "\n* ", "**", "\n1.", "\n#"},
		AttributionMarkers: []string{"theo", "dựa trên"},
		ProfessionalPhrases: []string{
			"bao gồm", "đảm bảo", "nhằm", "tuân thủ", "biện pháp", "quy định", "có trách nhiệm",
		},
	}
}
