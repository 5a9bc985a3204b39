package model

// Site is an HPO registered in the site lookup table.
type Site struct {
	HPOID        string   `json:"hpo_id"`
	Name         string   `json:"name"`
	Bucket       string   `json:"bucket"`
	DisplayOrder int      `json:"display_order"`
	Contacts     []string `json:"contacts,omitempty"`
}
