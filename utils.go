package imprint

// EnsureSiteTopic deduplicates topics and guarantees the canonical site topic
// is present exactly once.
func EnsureSiteTopic(topics []string) []string {
	deduped := make([]string, 0, len(topics)+1)
	seen := map[string]bool{}
	for _, topic := range topics {
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		deduped = append(deduped, topic)
	}
	if !seen[SiteTopic] {
		deduped = append(deduped, SiteTopic)
	}
	return deduped
}
