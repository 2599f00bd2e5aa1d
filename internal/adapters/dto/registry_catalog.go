package dto

// CatalogResponse represents the registry repository catalog response.
type CatalogResponse struct {
	Repositories []string `json:"repositories"`
}
