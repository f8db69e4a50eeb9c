package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Textsmith MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSummarizeText = mcp.NewTool("summarize_text",
	mcp.WithDescription(
		"Summarize a piece of text using the Textsmith API. "+
			"Returns a condensed version in the requested mode and tone. "+
			"This is a metered call: it counts against the API key's hourly rate and monthly character quota."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The text to summarize (10 to 100,000 characters)")),
	mcp.WithString("mode",
		mcp.Description("Summary shape: 'sentence' (one sentence), 'paragraph' (short paragraph), or 'bullets' (bullet list)"),
		mcp.Enum("sentence", "paragraph", "bullets")),
	mcp.WithNumber("max_length",
		mcp.Description("Maximum summary length in characters (default 500)")),
	mcp.WithString("tone",
		mcp.Description("Tone of the summary: 'neutral', 'formal', or 'casual'"),
		mcp.Enum("neutral", "formal", "casual")),
)

var ToolGenerateSEODescription = mcp.NewTool("generate_seo_description",
	mcp.WithDescription(
		"Generate a search-engine meta description for a page or article. "+
			"Optionally weaves in target keywords. Metered against the key's quota."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The page or article content to describe")),
	mcp.WithNumber("max_length",
		mcp.Description("Maximum description length in characters (default 160, the common SERP cutoff)")),
	mcp.WithArray("keywords",
		mcp.Description("Target keywords to include in the description"),
		mcp.Items(map[string]any{"type": "string"})),
)

var ToolGenerateSocialCaption = mcp.NewTool("generate_social_caption",
	mcp.WithDescription(
		"Turn text into a caption sized for a social platform, with optional "+
			"emojis and hashtags. The result includes the platform's character limit. "+
			"Metered against the key's quota."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The source text to turn into a caption")),
	mcp.WithString("platform",
		mcp.Description("Target platform, which sets the length ceiling: 'twitter', 'instagram', 'linkedin', or 'facebook'"),
		mcp.Enum("twitter", "instagram", "linkedin", "facebook")),
	mcp.WithString("tone",
		mcp.Description("Caption tone: 'neutral', 'formal', or 'casual'"),
		mcp.Enum("neutral", "formal", "casual")),
	mcp.WithBoolean("include_emojis",
		mcp.Description("Whether to decorate the caption with emojis")),
	mcp.WithNumber("hashtags",
		mcp.Description("Number of hashtags to append (default 3, max 10)")),
)

var ToolExtractKeywords = mcp.NewTool("extract_keywords",
	mcp.WithDescription(
		"Extract the top keywords and key phrases from text, ranked by relevance. "+
			"Metered against the key's quota."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The text to extract keywords from")),
	mcp.WithNumber("count",
		mcp.Description("Number of keywords to return (default 10, max 50)")),
	mcp.WithBoolean("include_phrases",
		mcp.Description("Whether to include multi-word phrases alongside single keywords (default true)")),
)

var ToolGetUsageStatus = mcp.NewTool("get_usage_status",
	mcp.WithDescription(
		"Check the API key's current usage: plan, monthly character quota consumed, "+
			"hourly request rate, and days left in the billing period. "+
			"This call is free and does not count against any limit. "+
			"Use it before large jobs to avoid hitting the quota mid-run."),
)
