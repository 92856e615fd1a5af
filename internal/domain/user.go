package domain

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User is the authenticated principal handed over by the identity provider.
type User struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Role     string `json:"role"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// ShippingInfo prefills the checkout form from the profile.
func (u *User) ShippingInfo() ShippingInfo {
	return ShippingInfo{
		CustomerName: u.FullName,
		Address:      u.Address,
		Phone:        u.Phone,
		Email:        u.Email,
	}
}
