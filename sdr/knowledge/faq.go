package knowledge

// DefaultDocuments is the FAQ seed set, keyed 1..n in category order.
func DefaultDocuments() []Document {
	return []Document{
		{ID: 1, Category: "procedures", Text: "We offer the following procedures: general medical consultations, blood tests and other exams, ultrasound, x-ray, specialist consultations (cardiology, dermatology, gynecology), complete check-ups and vaccination."},
		{ID: 2, Category: "hours", Text: "Our opening hours are Monday to Friday from 7am to 7pm and Saturdays from 8am to 2pm. We are closed on Sundays."},
		{ID: 3, Category: "units", Text: "We have 3 units: Downtown (Main Street, 123), South Zone (Beira Mar Avenue, 456) and North Zone (Commercial Street, 789). Every unit offers the same services."},
		{ID: 4, Category: "cancellation", Text: "To cancel or reschedule an appointment, contact us at least 24 hours in advance. You can cancel through the chat or by calling our call center."},
		{ID: 5, Category: "documents", Text: "For your appointment, bring a photo ID and, if you have one, your health insurance card or proof of private payment."},
		{ID: 6, Category: "insurance", Text: "We accept the main health insurance plans and also see private patients. Ask our team to check whether your plan is accepted."},
	}
}
