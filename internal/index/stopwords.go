package index

// stopWords is the English stop-word list applied during tokenization.
// Stop words carry no discriminating weight for ticket matching and would
// otherwise dominate term frequencies in short descriptions.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "about", "above", "after", "again", "against", "all", "also",
		"am", "an", "and", "any", "anything", "are", "as", "at", "be",
		"because", "been", "before", "being", "below", "between", "both",
		"but", "by", "can", "cannot", "could", "did", "do", "does", "doing",
		"down", "during", "each", "else", "ever", "every", "few", "for",
		"from", "further", "get", "got", "had", "has", "have", "having",
		"he", "her", "here", "hers", "herself", "him", "himself", "his",
		"how", "however", "if", "in", "into", "is", "it", "its", "itself",
		"just", "me", "more", "most", "my", "myself", "no", "nor", "not",
		"now", "of", "off", "on", "once", "only", "onto", "or", "other",
		"our", "ours", "ourselves", "out", "over", "own", "per", "same",
		"she", "should", "since", "so", "some", "something", "such", "than",
		"that", "the", "their", "theirs", "them", "themselves", "then",
		"there", "these", "they", "this", "those", "through", "to", "too",
		"under", "until", "up", "upon", "us", "very", "was", "we", "were",
		"what", "when", "where", "which", "while", "who", "whom", "why",
		"will", "with", "within", "without", "would", "you", "your",
		"yours", "yourself", "yourselves",
	} {
		stopWords[w] = struct{}{}
	}
}
