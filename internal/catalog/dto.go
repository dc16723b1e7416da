package catalog

// RegisterRequest creates or updates an entity of the type named in the path.
type RegisterRequest struct {
	ID         string            `json:"id" validate:"required,max=64,excludesall=:/"`
	Name       string            `json:"name" validate:"required,max=200"`
	Active     *bool             `json:"active,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" validate:"omitempty,max=20,dive,keys,max=50,endkeys,max=500"`
}
