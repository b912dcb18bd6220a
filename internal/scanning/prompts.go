package scanning

// transcribePrompt asks a vision model for a plain transcription, used for text extraction
const transcribePrompt = `You are reading a photo of a restaurant bill. Transcribe every line of text exactly as printed, top to bottom.

Rules:
- Keep one printed line per output line
- Keep item names and prices on the same line, separated by spaces
- Do not summarize, translate, or add anything that is not printed
- If there is no readable text, return an empty response`

// billParsePrompt is the shared prompt used by all LLM providers for structured bill extraction
const billParsePrompt = `Parse this restaurant receipt text. Extract all food and drink line items with their prices.

Return ONLY valid JSON in this exact format:
{
  "restaurant_name": "Name or null",
  "line_items": [{"name": "Burger", "price": 12.99}],
  "tax_amount": 0.00
}

Important:
- restaurant_name is the name of the restaurant if visible on the bill, otherwise null
- line_items holds individual food and drink items only. Do not include totals, subtotals, tax lines, or tip lines
- Prices and tax_amount are numbers in dollars (not strings)
- If no tax is printed use 0
- Do not include any text before or after the JSON
- Do not use markdown code blocks

Receipt text:
`
