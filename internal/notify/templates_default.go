package notify

import "github.com/ignite/sparkpost-monitor/internal/notify/schedule"

// DefaultTemplates returns the built-in subject/text/HTML templates for
// each category. A real deployment can override these per-tenant; the
// renderer fails any job whose schedule.Category has no corresponding
// entry here.
func DefaultTemplates() map[schedule.Category]Templates {
	return map[schedule.Category]Templates{
		schedule.DocChange: {
			Subject: `{{ doc_name }} was updated`,
			Text: `{% for a in authors %}{{ a.user }} changed {{ a.tables | join: ', ' }}. {% endfor %}` +
				"\n\nUnsubscribe from these emails: {{ unsubscribe_url }}",
			HTML: `<p>{{ doc_name }}</p><ul>{% for a in authors %}<li>{{ a.user }} changed {{ a.tables | join: ', ' }}</li>{% endfor %}</ul>` +
				`<p><a href="{{ unsubscribe_url }}">Unsubscribe</a></p>`,
		},
		schedule.Comment: {
			Subject: `New comments on {{ doc_name }}`,
			Text: `{% for c in comments %}{{ c.author }}: {{ c.text }}. {% endfor %}` +
				"\n\nUnsubscribe from comment emails: {{ unsubscribe_url }}" +
				"\nStop all comment emails on this document: {{ unsubscribe_fully_url }}",
			HTML: `<ul>{% for c in comments %}<li>{{ c.author }}: {{ c.text }}</li>{% endfor %}</ul>` +
				`<p><a href="{{ unsubscribe_url }}">Unsubscribe</a> · <a href="{{ unsubscribe_fully_url }}">Stop all comment emails</a></p>`,
		},
	}
}
