package tracker

var quotes = []string{
	"Success is not final, failure is not fatal: it is the courage to continue that counts. - Winston Churchill",
	"The only way to do great work is to love what you do. - Steve Jobs",
	"Don't watch the clock; do what it does. Keep going. - Sam Levenson",
	"The future belongs to those who believe in the beauty of their dreams. - Eleanor Roosevelt",
	"It is during our darkest moments that we must focus to see the light. - Aristotle",
	"Believe you can and you're halfway there. - Theodore Roosevelt",
	"If you know the enemy and know yourself, you need not fear the result of a hundred battles. - Sun Tzu",
	"Act as if what you do makes a difference. It does. - William James",
	"Success usually comes to those who are too busy to be looking for it. - Henry David Thoreau",
	"You miss 100 percent of the shots you don't take. - Wayne Gretzky",
	"The best way to predict the future is to create it. - Peter Drucker",
	"Your time is limited, don't waste it living someone else's life. - Steve Jobs",
	"The only impossible journey is the one you never begin. - Tony Robbins",
	"Success is walking from failure to failure with no loss of enthusiasm. - Winston Churchill",
	"What lies behind us and what lies before us are tiny matters compared to what lies within us. - Ralph Waldo Emerson",
	"Dream big and dare to fail. - Norman Vaughan",
	"The only limit to our realization of tomorrow is our doubts of today. - Franklin D. Roosevelt",
}

// Quote returns the motivational quote picked by intn, which must return a
// value in [0, n).
func Quote(intn func(n int) int) string {
	return quotes[intn(len(quotes))]
}
