package auditor

const extractionPrompt = "Extract all invoice data from this document. " +
	"Return structured JSON matching the schema exactly. " +
	"Use null for missing fields."

// narrativePrompt takes the extraction JSON, all signal statements, the
// anomalous statements and the confidence score
const narrativePrompt = "You are a forensic invoice auditor. Detect anomalies, overpricing, and fraud indicators.\n" +
	"\n" +
	"## INVOICE DATA (extracted)\n" +
	"```json\n" +
	"%s\n" +
	"```\n" +
	"\n" +
	"## QUANTITATIVE SIGNALS (pre-computed deterministically, treat as facts)\n" +
	"%s\n" +
	"\n" +
	"## ANOMALOUS SIGNALS (exceed threshold, require attention)\n" +
	"%s\n" +
	"\n" +
	"## RUBRIC SCORE\n" +
	"Confidence score: %d/100 (rubric-based, deterministically computed)\n" +
	"\n" +
	"## TASK\n" +
	"Using the quantitative signals above as your factual basis, produce a structured anomaly report.\n" +
	"\n" +
	"Rules:\n" +
	"- Do NOT recompute percentages or statistics. Use the numbers in the signals verbatim.\n" +
	"- Set `is_duplicate=true` only if a duplicate invoice signal is listed as anomalous.\n" +
	"- For each line item, set `flagged=true` if any anomalous signal references that item. Use its zero-based position as `line_item_index`.\n" +
	"- Write `summary` as 2-3 sentences addressed to a human auditor, referencing specific signals.\n" +
	"\n" +
	"Return structured JSON matching the schema exactly."

// negotiationPrompt takes the vendor, invoice number, summary, anomaly flags
// and anomalous signal statements
const negotiationPrompt = "You are a professional procurement manager drafting a renegotiation email to a vendor.\n" +
	"\n" +
	"## VENDOR\n" +
	"%s\n" +
	"\n" +
	"## INVOICE\n" +
	"%s\n" +
	"\n" +
	"## AUDITOR SUMMARY\n" +
	"%s\n" +
	"\n" +
	"## ANOMALY FLAGS\n" +
	"%s\n" +
	"\n" +
	"## ANOMALOUS PRICE SIGNALS\n" +
	"%s\n" +
	"\n" +
	"## TASK\n" +
	"Draft a concise, professional email requesting a price review or correction.\n" +
	"- Be factual and reference specific anomalies.\n" +
	"- Maintain a firm but constructive tone.\n" +
	"- Populate `key_points` with the 2-5 most important issues to raise.\n" +
	"\n" +
	"Return structured JSON matching the schema exactly."
