package dialect

// Marker weights. These values and the confidence thresholds in detector.go
// are the documented contract of the scorer; changing them changes which
// dialect users get.
const (
	weightStrong   = 3
	weightModerate = 2
	weightWeak     = 1
)

type markerGroup struct {
	weight  int
	markers []string
}

type profile struct {
	dialect Dialect
	groups  []markerGroup
}

// profiles is scanned in order; on equal scores the earlier dialect wins.
var profiles = []profile{
	{
		dialect: Egyptian,
		groups: []markerGroup{
			{weight: weightStrong, markers: []string{"ازيك", "إزيك", "عايز", "عايزة", "عاوز", "ازاي", "إزاي", "دلوقتي", "كده", "كدا", "بتاعي", "بتاعك"}},
			{weight: weightModerate, markers: []string{"فين", "ليه", "امتى", "إمتى", "اوي", "أوي", "بقى", "خالص"}},
			{weight: weightWeak, markers: []string{"مش", "طب", "يلا"}},
		},
	},
	{
		dialect: Gulf,
		groups: []markerGroup{
			{weight: weightStrong, markers: []string{"شلونك", "شلونج", "وايد", "ابغى", "أبغى", "يبغى", "هالحين", "شفيك", "عساك"}},
			{weight: weightModerate, markers: []string{"الحين", "حيل", "مب", "ترى", "جذي", "چذي"}},
			{weight: weightWeak, markers: []string{"زين", "خوش", "يالله"}},
		},
	},
	{
		dialect: Levantine,
		groups: []markerGroup{
			{weight: weightStrong, markers: []string{"هلق", "هلأ", "منيح", "بدي", "بدك", "هيك", "شو"}},
			{weight: weightModerate, markers: []string{"كتير", "ليش", "وين", "تبع", "لك"}},
			{weight: weightWeak, markers: []string{"مش", "يلا", "خلص"}},
		},
	},
	{
		dialect: Maghrebi,
		groups: []markerGroup{
			{weight: weightStrong, markers: []string{"بزاف", "واش", "كيفاش", "دابا", "ديال", "بغيت", "مزيان"}},
			{weight: weightModerate, markers: []string{"علاش", "كاين", "غادي", "لاباس", "شنو"}},
			{weight: weightWeak, markers: []string{"صافي", "يالاه"}},
		},
	},
}
