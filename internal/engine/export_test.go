package engine

// PasswordCost lets tests lower the bcrypt cost.
var PasswordCost = &passwordCost
