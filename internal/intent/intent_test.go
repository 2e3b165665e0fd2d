package intent

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		body string
		want Intent
	}{
		{"sim", Affirmative},
		{"Sim", Affirmative},
		{"SIM!", Affirmative},
		{"sim?", Affirmative},
		{"  sim  ", Affirmative},
		{"quero", Affirmative},
		{"quero muito", Affirmative},
		{"vamos", Affirmative},
		{"ok", Affirmative},
		{"pode mandar", Affirmative},
		{"segue", Affirmative},
		{"manda", Affirmative},
		{"s", Affirmative},

		{"nao", Negative},
		{"não", Negative},
		{"Não quero", Negative},
		{"n quero", Negative},
		{"não obrigada", Negative},
		{"n", Negative},
		// The broad "starts with n" rule also catches unrelated words.
		{"nada a ver", Negative},

		{"talvez", Unknown},
		{"quanto custa?", Unknown},
		{"oi", Unknown},
		{"", Unknown},
		{"   ", Unknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.body); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.body, got, tt.want)
		}
	}
}

func TestIntentString(t *testing.T) {
	if Affirmative.String() != "affirmative" || Negative.String() != "negative" || Unknown.String() != "unknown" {
		t.Error("Intent.String returned unexpected names")
	}
}
