package memory

func sanitizeFTS5Query(s string) string { return s }
