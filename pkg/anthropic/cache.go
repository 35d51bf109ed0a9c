package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. Pass-1 requests for one theme share the system prompt, so
// chunks after the first read it from the prompt cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
