package classifier

import "strings"

// categoryGuidelines is the ordered precedence table for category
// assignment; rules are evaluated top-down and the first match wins. The
// Rules classifier mirrors this table exactly.
const categoryGuidelines = `===Classification Guidelines
1. If there is no receiver, classify it as Personal Contact.
2. If the receiver is Blinkit or Zepto, classify it as Quick Commerce.
3. Only if the receiver is Amazon or Flipkart, classify it as Ecommerce.
4. If the receiver is Spotify, Netflix, Hotstar, or Google Play, classify it as Subscriptions.
5. If the receiver has BMTC BUS or Bangalore Metro Rail Corporation Ltd, classify it as Public Transport.
6. If the receiver is Hungerbox, classify it as Office Lunch.
7. If the receiver has 'super market', 'supermarket', 'store', or 'mart' in its name, classify it strictly as Grocery.
8. If the receiver is a restaurant, has a food item in its name, is a food chain, or has the name Zomato, classify it as Eating Out.
9. If the receiver is just someone's name, classify it as Personal Transfer.
10. If the receiver has Fuel in its name, classify it as Fuel.
11. If the receiver doesn't fall into any of these categories, intelligently classify based on the merchant name.`

// buildMessagePrompt builds the single-message extraction prompt for one
// bank debit alert body.
func buildMessagePrompt(cleanBody string) string {
	var b strings.Builder
	b.WriteString("You are a financial assistant. Extract transaction details from this bank debit alert email and classify it.\n\n")
	b.WriteString("===Email Body\n")
	b.WriteString(cleanBody)
	b.WriteString("\n\n===Extraction Instructions\n")
	b.WriteString("1. Extract the Amount (just the number, no currency symbol, no commas)\n")
	b.WriteString("2. Extract the Receiver/Merchant name (who the money was paid to)\n")
	b.WriteString("3. Extract the Date and Time of the transaction\n")
	b.WriteString("4. Classify the transaction into a category\n\n")
	b.WriteString(categoryGuidelines)
	b.WriteString("\n\n=== Response Format (Respond ONLY with this JSON, nothing else)\n")
	b.WriteString(`{
    "Amount": "extracted amount as number string without commas",
    "Classification": "category from the guidelines above",
    "Receiver": "merchant or receiver name",
    "Date": "YYYY-MM-DD HH:MM:SS format"
}`)
	b.WriteString("\nReturn ONLY valid raw JSON. Do NOT wrap the response in code fences.\n")
	return b.String()
}

// buildBatchPrompt builds the archive-batch classification prompt. entries
// is the JSON encoding of the batch (raw text + date pairs).
func buildBatchPrompt(entriesJSON string) string {
	var b strings.Builder
	b.WriteString("You are a financial assistant that classifies transactions into various categories.\n\n")
	b.WriteString(categoryGuidelines)
	b.WriteString("\n\n===Transactions\n")
	b.WriteString(entriesJSON)
	b.WriteString("\n\n=== Response Format\n")
	b.WriteString("Output a JSON array of objects, one per input transaction:\n")
	b.WriteString(`{
    "Amount": "Amount associated with the transaction, do not include the currency symbol",
    "Classification": "Whatever you classified it as",
    "Receiver": "Receiver's name",
    "Date": "Date and time of transaction in the format YYYY-MM-DD HH:MM:SS"
}`)
	b.WriteString("\nRespond in pure JSON only. Do NOT use code fences or Markdown.\n")
	return b.String()
}
