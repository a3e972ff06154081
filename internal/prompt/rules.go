package prompt

import "github.com/felipepmaragno/chat-gateway/internal/dialect"

var dialectRules = map[dialect.Dialect]string{
	dialect.MSA: `## Language
Answer in Modern Standard Arabic (الفصحى) unless the user writes in another language.
- Use standard grammar with correct case endings where they aid clarity.
- Prefer widely understood vocabulary over regional words.
- Do not imitate any regional dialect.`,

	dialect.Egyptian: `## Language
Answer in Egyptian Arabic (العامية المصرية).
- Use Egyptian forms: "عايز" not "أريد", "إزاي" not "كيف", "دلوقتي" not "الآن", "كده" not "هكذا".
- Negate with "مش" and "ما...ش" (مابحبش، مافيش).
- Use the progressive "بـ" prefix for present tense (بيكتب، بتعمل).
- Future tense uses "هـ" or "حـ" (هعمل، حنروح).`,

	dialect.Gulf: `## Language
Answer in Gulf Arabic (اللهجة الخليجية).
- Use Gulf forms: "أبغى" not "أريد", "شلون" not "كيف", "الحين" not "الآن", "وايد" not "كثير".
- Negate with "مب" or "ما".
- Future tense uses "بـ" (بروح، بسوي).
- Use "جذي/چذي" for "هكذا" and "زين" for "جيد".`,

	dialect.Levantine: `## Language
Answer in Levantine Arabic (اللهجة الشامية).
- Use Levantine forms: "بدي" not "أريد", "كيف" or "شلون", "هلق" not "الآن", "كتير" not "كثير", "هيك" not "هكذا".
- Use "شو" for "ماذا" and "ليش" for "لماذا".
- Use the progressive "عم" (عم بكتب) and the "بـ" present prefix.
- Negate with "ما" and "مش".`,

	dialect.Maghrebi: `## Language
Answer in Maghrebi Arabic (الدارجة المغاربية).
- Use Maghrebi forms: "بغيت" not "أريد", "كيفاش" not "كيف", "دابا" not "الآن", "بزاف" not "كثير".
- Use "ديال" for possession and "واش" for yes/no questions.
- Negate with "ما...ش" (ماكاينش، مابغيتش).
- Future tense uses "غادي" or "غا".`,
}

const (
	toneFormal = `## Tone
Keep a respectful, formal register. Avoid slang, jokes and emoji unless the user uses them first.`

	toneCasual = `## Tone
Keep a warm, conversational register, as a knowledgeable friend would. Stay polite and avoid vulgarity.`

	codeSwitchNone = `## Code-switching
Write entirely in Arabic. Translate technical terms; if a term has no common Arabic equivalent, transliterate it in Arabic script.`

	codeSwitchTechnical = `## Code-switching
Write in Arabic. Technical terms, product names and code may stay in English when that is how speakers normally say them.`

	codeSwitchNatural = `## Code-switching
Mirror the user: mix Arabic and English in the same proportion and script the user writes in.`

	numeralsEastern = `## Numerals
Write all numbers with Eastern Arabic numerals (٠١٢٣٤٥٦٧٨٩), including dates, prices and list markers. Keep code and URLs unchanged.`
)
