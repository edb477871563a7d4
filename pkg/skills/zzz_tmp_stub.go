package skills

type SkillsLoader struct{}

func NewSkillsLoader(a, b, c string) *SkillsLoader { return &SkillsLoader{} }
func (s *SkillsLoader) BuildSkillsSummary() string { return "" }
func (s *SkillsLoader) ListSkills() []string { return nil }
func (s *SkillsLoader) LoadSkillsForContext(names []string) string { return "" }
